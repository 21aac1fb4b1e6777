package metrics

import (
	"net"
	"os"
	"sync"
)

var (
	localIPOnce sync.Once
	localIP     string
)

// LocalIP returns the address metrics are tagged with: MOCK_LOCAL_IP when
// set, otherwise the source address of an outbound route probe. Resolved
// once, before the first worker task.
func LocalIP() string {
	localIPOnce.Do(func() {
		if mock := os.Getenv("MOCK_LOCAL_IP"); mock != "" {
			localIP = mock
			return
		}
		localIP = detectLocalIP()
	})
	return localIP
}

func detectLocalIP() string {
	// No packet leaves: a UDP "connect" only fixes the local address.
	conn, err := net.Dial("udp", "8.8.8.8:53")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
