package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextSaleCode(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		codes  []string
		want   string
	}{
		{name: "no sales yet", prefix: "AS", codes: nil, want: "AS1"},
		{name: "highest suffix wins", prefix: "P", codes: []string{"P1", "P5", "P3"}, want: "P6"},
		{name: "unparsable codes ignored", prefix: "AS", codes: []string{"AS2", "ASX", "AS-9", "AS", "AS 4"}, want: "AS3"},
		{name: "other prefixes ignored", prefix: "AS", codes: []string{"B99", "as7", "AS1"}, want: "AS2"},
		{name: "leading zeros", prefix: "AS", codes: []string{"AS009"}, want: "AS10"},
		{name: "only garbage", prefix: "AS", codes: []string{"ASabc"}, want: "AS1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextSaleCode(tt.prefix, tt.codes))
		})
	}
}
