package database

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/performance-control-loop/internal/infrastructure/config"
)

func TestConnectRejectsBadURL(t *testing.T) {
	pool, err := Connect(context.Background(), &config.DatabaseConfig{URL: "postgres://pcl@localhost:notaport/pcl"}, zaptest.NewLogger(t))

	require.Error(t, err)
	assert.Nil(t, pool)
	assert.Contains(t, err.Error(), "failed to parse database URL: ")
	assert.NotNil(t, stderrors.Unwrap(err), "parse error is kept as the cause")
}
