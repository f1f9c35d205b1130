package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConnectedWithoutConnection(t *testing.T) {
	p := &Publisher{}
	assert.False(t, p.IsConnected())

	p.Close()
	assert.False(t, p.IsConnected())
}
