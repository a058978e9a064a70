package app

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/spotpeer/cmd/spotpeer/app/options"
	"github.com/autopeer-io/spotpeer/internal/spotpeer"
)

type otherOptions struct{}

func (otherOptions) Flags() cliflag.NamedFlagSets { return cliflag.NamedFlagSets{} }
func (otherOptions) Complete() error { return nil }
func (otherOptions) Validate() error { return nil }

func TestReloadBeforeStart(t *testing.T) {
	var current atomic.Pointer[spotpeer.Server]
	fresh := options.NewServerOptions()
	fresh.LotOptions.ID = 10

	assert.NoError(t, reload(&current)(fresh))
}

func TestReloadRejectsForeignOptions(t *testing.T) {
	var current atomic.Pointer[spotpeer.Server]
	require.Error(t, reload(&current)(otherOptions{}))
}

func TestNewAppHasConfigFlag(t *testing.T) {
	cmd := NewApp().Command()
	assert.NotNil(t, cmd.Flags().Lookup("config"))
	assert.NotNil(t, cmd.Flags().Lookup("lot.id"))
}
