package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "transient", err: TransientError("oracle busy", base), want: KindTransient},
		{name: "permanent", err: PermanentError("bad image", base), want: KindPermanent},
		{name: "rasterization", err: RasterizationError("corrupt pdf", nil), want: KindRasterization},
		{name: "wrapped permanent", err: fmt.Errorf("page 3: %w", PermanentError("bad image", nil)), want: KindPermanent},
		{name: "unclassified", err: base, want: KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestPredicatesOnNil(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsPermanent(nil))
	assert.False(t, IsRasterization(nil))
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("connection reset")
	err := TransientError("oracle request failed", base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "[transient] oracle request failed: connection reset", err.Error())
}
