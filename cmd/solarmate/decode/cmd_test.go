package decode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/log2"
)

func TestDecode(t *testing.T) {
	t.Parallel()
	fx := mate.MustBuildFrame('A', "02", "00", "03", "118", "120", "00", "02", "000", "00", "252", "008", "000")
	corrupt := fx
	corrupt[5] = '9'

	var stream bytes.Buffer
	stream.WriteString("\x00garbage")
	stream.Write(fx[:])
	stream.Write(corrupt[:])
	stream.Write(fx[:])

	stats, err := Decode(&stream, false, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.Rejected)
}
