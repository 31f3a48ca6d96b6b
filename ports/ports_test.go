package ports

import (
	"fmt"
	"testing"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pin(p uint16) *uint16 {
	return &p
}

func TestRange_Validate(t *testing.T) {
	assert.NoError(t, Range{Start: 8081, End: 8081}.Validate())
	assert.True(t, errors.Is(Range{Start: 8082, End: 8081}.Validate(), ErrInvalidRange))
	assert.True(t, errors.Is(Range{Start: 0, End: 10}.Validate(), ErrInvalidPort))
	assert.Equal(t, 6, Range{Start: 37015, End: 37020}.Size())
}

func TestAllocate(t *testing.T) {
	r := Range{Start: 8081, End: 8083}

	t.Run("picks the lowest free port", func(t *testing.T) {
		reserved := NewReserved(8081)
		p, err := Allocate(r, reserved, nil)
		require.NoError(t, err)
		assert.Equal(t, uint16(8082), p)
		assert.True(t, reserved.Has(8082))
	})

	t.Run("is deterministic for the same reserved set", func(t *testing.T) {
		a, err := Allocate(r, NewReserved(8082), nil)
		require.NoError(t, err)
		b, err := Allocate(r, NewReserved(8082), nil)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("returns a pinned port even outside of the range", func(t *testing.T) {
		reserved := NewReserved()
		p, err := Allocate(r, reserved, pin(9000))
		require.NoError(t, err)
		assert.Equal(t, uint16(9000), p)
		assert.True(t, reserved.Has(9000))
	})

	t.Run("rejects a zero pin", func(t *testing.T) {
		_, err := Allocate(r, NewReserved(), pin(0))
		assert.True(t, errors.Is(err, ErrInvalidPort))
	})

	t.Run("terminates at the top of the port space", func(t *testing.T) {
		p, err := Allocate(Range{Start: 65535, End: 65535}, NewReserved(), nil)
		require.NoError(t, err)
		assert.Equal(t, uint16(65535), p)

		_, err = Allocate(Range{Start: 65535, End: 65535}, NewReserved(65535), nil)
		assert.True(t, errors.Is(err, ErrPortsExhausted))
	})

	t.Run("fails once every port is reserved", func(t *testing.T) {
		reserved := NewReserved()
		for i := 0; i < r.Size(); i++ {
			_, err := Allocate(r, reserved, nil)
			require.NoError(t, err)
		}
		assert.Len(t, reserved, r.Size())

		_, err := Allocate(r, reserved, nil)
		assert.True(t, errors.Is(err, ErrPortsExhausted))
	})
}

func TestAllocator_AllocateBatch(t *testing.T) {
	t.Run("assigns ascending ports in name order", func(t *testing.T) {
		a := Allocator{Auth: Range{8081, 8082}, Game: Range{37015, 37020}}
		b := a.AllocateBatch(NewReserved(), []Request{{Name: "bravo"}, {Name: "alpha"}})

		require.Empty(t, b.Failed)
		assert.Equal(t, Assignment{AuthPort: 8081, GamePort: 37015}, b.Assigned["alpha"])
		assert.Equal(t, Assignment{AuthPort: 8082, GamePort: 37016}, b.Assigned["bravo"])
	})

	t.Run("reports exhaustion for the request past the range size", func(t *testing.T) {
		a := Allocator{Auth: Range{8081, 8082}, Game: Range{37015, 37020}}
		b := a.AllocateBatch(NewReserved(8081, 8082), []Request{{Name: "charlie"}})

		assert.Empty(t, b.Assigned)
		require.Contains(t, b.Failed, "charlie")
		assert.True(t, errors.Is(b.Failed["charlie"], ErrPortsExhausted))
	})

	t.Run("lets pins win regardless of order", func(t *testing.T) {
		a := Allocator{Auth: Range{8081, 8083}, Game: Range{37015, 37020}}
		b := a.AllocateBatch(NewReserved(), []Request{
			{Name: "alpha"},
			{Name: "zulu", AuthPort: pin(8081), GamePort: pin(37015)},
		})

		require.Empty(t, b.Failed)
		assert.Equal(t, Assignment{AuthPort: 8081, GamePort: 37015}, b.Assigned["zulu"])
		assert.Equal(t, Assignment{AuthPort: 8082, GamePort: 37016}, b.Assigned["alpha"])
	})

	t.Run("rejects a pin that collides with a live server", func(t *testing.T) {
		a := Allocator{Auth: Range{8081, 8083}, Game: Range{37015, 37020}}
		b := a.AllocateBatch(NewReserved(8081), []Request{{Name: "alpha", AuthPort: pin(8081)}})

		require.Contains(t, b.Failed, "alpha")
		assert.True(t, errors.Is(b.Failed["alpha"], ErrPortInUse))
	})

	t.Run("never hands out the same port from overlapping ranges", func(t *testing.T) {
		a := Allocator{Auth: Range{9000, 9003}, Game: Range{9000, 9003}}
		b := a.AllocateBatch(NewReserved(), []Request{{Name: "alpha"}, {Name: "bravo"}})

		require.Empty(t, b.Failed)
		seen := NewReserved()
		for _, asn := range b.Assigned {
			for _, p := range []uint16{asn.AuthPort, asn.GamePort} {
				assert.False(t, seen.Has(p), "port %d handed out twice", p)
				seen.Add(p)
			}
		}
	})

	t.Run("gives back ports claimed by a failed request", func(t *testing.T) {
		a := Allocator{Auth: Range{8081, 8082}, Game: Range{37015, 37015}}
		b := a.AllocateBatch(NewReserved(), []Request{{Name: "alpha"}, {Name: "bravo"}})

		assert.Equal(t, Assignment{AuthPort: 8081, GamePort: 37015}, b.Assigned["alpha"])
		require.Contains(t, b.Failed, "bravo")
		assert.True(t, errors.Is(b.Failed["bravo"], ErrPortsExhausted))

		c := a.AllocateBatch(NewReserved(8081, 37015), []Request{{Name: "bravo", GamePort: pin(37100)}})
		assert.Equal(t, Assignment{AuthPort: 8082, GamePort: 37100}, c.Assigned["bravo"])
	})

	t.Run("never assigns the same port twice across N servers", func(t *testing.T) {
		const n = 16
		a := Allocator{Auth: Range{10000, 10000 + n - 1}, Game: Range{20000, 20000 + n - 1}}
		reqs := make([]Request, 0, n+1)
		for i := 0; i <= n; i++ {
			reqs = append(reqs, Request{Name: fmt.Sprintf("server-%02d", i)})
		}
		b := a.AllocateBatch(NewReserved(), reqs)

		assert.Len(t, b.Assigned, n)
		assert.Len(t, b.Failed, 1)
		assert.Contains(t, b.Failed, fmt.Sprintf("server-%02d", n))
	})
}
