package xsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwitcher(t *testing.T) {
	s := NewSwitcher(false)
	assert.False(t, s.Get())
	s.On()
	assert.True(t, s.Get())
	s.Off()
	assert.False(t, s.Get())
}

func TestWakerCollapsesWakes(t *testing.T) {
	w := NewWaker()
	w.Wake()
	w.Wake()
	w.Wake()
	assert.True(t, w.Waking())

	<-w.C()
	select {
	case <-w.C():
		t.Fatal("duplicate wakes must collapse into one")
	default:
	}

	w.Clear()
	assert.False(t, w.Waking())
	w.Wake()
	<-w.C()
}

func TestWakerTaken(t *testing.T) {
	w := NewWaker()
	w.Take()
	w.Wake()
	assert.False(t, w.Waking())
	select {
	case <-w.C():
		t.Fatal("wake after take must not deliver")
	default:
	}
}
