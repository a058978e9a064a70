package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/spotpeer/pkg/options"
)

func TestDefaultsAreValid(t *testing.T) {
	o := NewServerOptions()
	require.NoError(t, o.Complete())
	require.NoError(t, o.Validate())

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.LotOptions, cfg.LotOptions)
}

func TestValidateOnlyChecksSelectedTransport(t *testing.T) {
	o := NewServerOptions()
	o.RedisOptions.Addr = "not-an-address"
	assert.NoError(t, o.Validate(), "redis is not the selected transport")

	o.ConnectionOptions.Transport = options.TransportRedis
	assert.Error(t, o.Validate())
}

func TestValidateAggregatesErrors(t *testing.T) {
	o := NewServerOptions()
	o.HttpOptions.Addr = "nope"
	o.LotOptions.ID = -1
	o.Log.Level = "loud"

	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--lot.id")
	assert.Contains(t, err.Error(), "--log.level")
}

func TestFlagsCoverEveryGroup(t *testing.T) {
	fss := NewServerOptions().Flags()
	for _, name := range []string{"http", "snapshot", "postgres", "connection", "mqtt", "redis", "lot", "log"} {
		assert.Contains(t, fss.Order, name)
	}
	assert.NotNil(t, fss.FlagSet("lot").Lookup("lot.id"))
}
