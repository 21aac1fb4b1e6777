package sharding

import (
	"crypto/md5"
	"sort"
	"strconv"
)

// ketamaPointsPerEntry is the classic libmemcached layout: 40 md5 digests per
// weight unit, 4 ring points per digest.
const ketamaPointsPerEntry = 160

type ketamaPoint struct {
	point uint32
	idx   int
}

// Ketama is consistent hashing over an md5 continuum, compatible with the
// libmemcached placement so that cache entries survive an agent swap-in.
type Ketama struct {
	ring   []ketamaPoint
	shards int
}

// NewKetama builds the continuum over the given backend names with equal
// weights.
func NewKetama(names []string) *Ketama {
	k := &Ketama{
		ring:   make([]ketamaPoint, 0, len(names)*ketamaPointsPerEntry),
		shards: len(names),
	}
	for idx, name := range names {
		for i := 0; i < ketamaPointsPerEntry/4; i++ {
			digest := md5.Sum([]byte(name + "-" + strconv.Itoa(i)))
			for j := 0; j < 4; j++ {
				point := uint32(digest[3+j*4])<<24 |
					uint32(digest[2+j*4])<<16 |
					uint32(digest[1+j*4])<<8 |
					uint32(digest[j*4])
				k.ring = append(k.ring, ketamaPoint{point: point, idx: idx})
			}
		}
	}
	sort.Slice(k.ring, func(i, j int) bool { return k.ring[i].point < k.ring[j].point })
	return k
}

func (k *Ketama) Index(hash int64) int {
	if len(k.ring) == 0 {
		return 0
	}
	point := uint32(hash)
	i := sort.Search(len(k.ring), func(i int) bool { return k.ring[i].point >= point })
	if i == len(k.ring) {
		i = 0
	}
	return k.ring[i].idx
}

func (k *Ketama) Shards() int { return k.shards }
