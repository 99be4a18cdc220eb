package ssh

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSocketName(t *testing.T) {
	name := socketName("user@device-01.lab")
	assert.Len(t, name, len("ssh-")+12)
	assert.Equal(t, name, socketName("user@device-01.lab"))
	assert.NotEqual(t, name, socketName("user@device-02.lab"))
}

func TestBuildSSHArgs(t *testing.T) {
	c := &Client{
		logger:      zerolog.Nop(),
		host:        "pixel@10.0.0.2",
		controlPath: "/run/perfshard/ssh-abc",
	}
	WithIdentityFile("/keys/id")(c)
	WithExtraOptions("StrictHostKeyChecking=no")(c)

	assert.Equal(t, []string{
		"-o", "ControlPath=/run/perfshard/ssh-abc",
		"-o", "ControlMaster=no",
		"-i", "/keys/id",
		"-o", "StrictHostKeyChecking=no",
	}, c.buildSSHArgs())
	assert.Equal(t, "ssh:pixel@10.0.0.2", c.Name())
}

func TestMasterArgs(t *testing.T) {
	c := &Client{logger: zerolog.Nop(), host: "bench"}
	WithProxyCommand("nc %h %p")(c)

	args := c.masterArgs("/tmp/ssh-x")
	assert.Equal(t, "bench", args[len(args)-1])
	assert.Contains(t, args, "ControlPersist=30s")
	assert.Contains(t, args, "ProxyCommand=nc %h %p")
	assert.Contains(t, args, "-N")
}
