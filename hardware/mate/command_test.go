package mate

import (
	"bytes"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandWire(t *testing.T) {
	t.Parallel()
	cases := []struct {
		cmd    Command
		expect string
	}{
		// 'A'=17 + '1'=1
		{CommandAuxOn, "\nA1,018\r"},
		{CommandAuxOff, "\nA0,017\r"},
		// 'U'=37 + 1
		{CommandUse, "\nU1,038\r"},
		{CommandDrop, "\nD1,021\r"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.cmd.String(), func(t *testing.T) {
			t.Parallel()
			w, err := c.cmd.Wire()
			require.NoError(t, err)
			assert.Equal(t, c.expect, string(w))
			assert.Len(t, w, CommandFrameLength)
		})
	}
	_, err := CommandInvalid.Wire()
	assert.True(t, errors.IsNotValid(err))
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	for _, c := range AllCommands() {
		parsed, err := ParseCommand(" " + c.String() + "\n")
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
		assert.True(t, c.Valid())
	}
	c, err := ParseCommand("aux_on")
	require.NoError(t, err)
	assert.Equal(t, CommandAuxOn, c)
	_, err = ParseCommand("LAUNCH")
	assert.True(t, errors.IsNotValid(err))
	assert.Equal(t, "Command(200)", Command(200).String())
}

func TestTransportDisabledOutput(t *testing.T) {
	t.Parallel()
	w := bytes.NewBuffer(nil)
	tr := NewNullTransport(bytes.NewReader(nil), w, false)
	assert.False(t, tr.CommandsEnabled())
	n, err := tr.Output().Write([]byte("\nA1,018\r"))
	assert.Equal(t, 0, n)
	assert.Equal(t, ErrOutputDisabled, err)
	// repeatable, never silently succeeds
	_, err = tr.Output().Write([]byte("x"))
	assert.Equal(t, ErrOutputDisabled, err)
	assert.Equal(t, 0, w.Len())

	tr = NewNullTransport(bytes.NewReader(nil), w, true)
	_, err = tr.Output().Write([]byte("x"))
	assert.NoError(t, err)
	assert.Equal(t, "x", w.String())
	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
}
