package api

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParamsDefaults(t *testing.T) {
	p, err := parseParams(url.Values{})
	require.NoError(t, err)
	assert.Nil(t, p.from)
	assert.Nil(t, p.to)
	assert.Nil(t, p.sender)
	assert.True(t, p.ascending)
}

func TestParseParamsRejectsMalformedValues(t *testing.T) {
	cases := map[string]url.Values{
		"from":           {"from": {"not-a-number"}},
		"block_number":   {"block_number": {"-1"}},
		"min_tip":        {"min_tip": {"abc"}},
		"sender (short)": {"sender": {"0x1234"}},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseParams(q)
			require.Error(t, err)
			var reqErr *requestError
			assert.ErrorAs(t, err, &reqErr)
		})
	}
}

func TestParseParamsAcceptsValidSender(t *testing.T) {
	sender := "0x00000000000000000000000000000000000000aa"
	p, err := parseParams(url.Values{"sender": {sender}})
	require.NoError(t, err)
	require.NotNil(t, p.sender)
	assert.Equal(t, sender, *p.sender)
}

func TestOrderTimestampsSwapsWhenFromAfterTo(t *testing.T) {
	early := time.Unix(100, 0)
	late := time.Unix(200, 0)

	from, to := orderTimestamps(&late, &early)
	assert.True(t, from.Equal(early))
	assert.True(t, to.Equal(late))
}

func TestOrderTimestampsLeavesNilBoundsAlone(t *testing.T) {
	only := time.Unix(100, 0)
	from, to := orderTimestamps(&only, nil)
	assert.Equal(t, &only, from)
	assert.Nil(t, to)
}

func TestIsAscending(t *testing.T) {
	early := time.Unix(100, 0)
	late := time.Unix(200, 0)

	assert.True(t, isAscending(nil, nil))
	assert.True(t, isAscending(&early, nil))
	assert.True(t, isAscending(nil, &late))
	assert.True(t, isAscending(&early, &late))
	assert.False(t, isAscending(&late, &early))
}

func TestParseParamsReversedRangeYieldsDescendingOrder(t *testing.T) {
	early := time.Unix(100, 0)
	late := time.Unix(200, 0)

	q := url.Values{
		"from": {"200"},
		"to":   {"100"},
	}
	p, err := parseParams(q)
	require.NoError(t, err)
	assert.False(t, p.ascending)
	require.NotNil(t, p.from)
	require.NotNil(t, p.to)
	assert.True(t, p.from.Equal(early))
	assert.True(t, p.to.Equal(late))
}
