package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLSN(t *testing.T) {
	lsn, err := ParseLSN("16/B374D848")
	assert.NoError(t, err)
	assert.Equal(t, LSN(0x16B374D848), lsn)
}

func TestParseLSN_Invalid(t *testing.T) {
	for _, s := range []string{"", "16", "16/B374D848/0", "xx/yy"} {
		_, err := ParseLSN(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestLSN_String(t *testing.T) {
	assert.Equal(t, "16/B374D848", LSN(0x16B374D848).String())
	assert.Equal(t, "0/0", InvalidLSN.String())
}

func TestLSN_RoundTrip(t *testing.T) {
	for _, s := range []string{"0/0", "0/1", "FF/AABBCCDD"} {
		lsn, err := ParseLSN(s)
		assert.NoError(t, err)
		assert.Equal(t, s, lsn.String())
	}
}

func TestLSN_ComparesNumerically(t *testing.T) {
	behind, _ := ParseLSN("0/FFFFFFFF")
	ahead, _ := ParseLSN("1/0")
	assert.True(t, ahead > behind)
}
