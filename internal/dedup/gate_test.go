package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadScanner/internal/domain"
	"LeadScanner/internal/ports"
)

type storedIdentities struct {
	ports.PostRepository
	ids   map[string]bool
	links map[string]bool
	err   error
}

func (s storedIdentities) ExistingSourceIDs(_ context.Context, ids []string) (map[string]bool, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]bool{}
	for _, id := range ids {
		if s.ids[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (s storedIdentities) ExistingPermalinks(_ context.Context, links []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, l := range links {
		if s.links[l] {
			out[l] = true
		}
	}
	return out, nil
}

func post(id, link string) domain.Post {
	return domain.Post{SourceID: id, Permalink: link, FetchedAt: time.Now()}
}

func TestFilterDropsBatchAndStoredRepeats(t *testing.T) {
	t.Parallel()

	gate := NewGate(storedIdentities{
		ids:   map[string]bool{"old": true},
		links: map[string]bool{"https://x/moved": true},
	}, nil)

	kept, dups, err := gate.Filter(context.Background(), []domain.Post{
		post("a", "https://x/a"),
		post("a", "https://x/a-again"),
		post("b", "https://x/a"),
		post("old", "https://x/old"),
		post("c", "https://x/moved"),
		post("d", ""),
		post("e", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, dups)

	ids := make([]string, 0, len(kept))
	for _, p := range kept {
		ids = append(ids, p.SourceID)
	}
	assert.Equal(t, []string{"a", "d", "e"}, ids)
}

func TestFilterPropagatesStorageErrors(t *testing.T) {
	t.Parallel()

	gate := NewGate(storedIdentities{err: errors.New("connection refused")}, nil)
	_, _, err := gate.Filter(context.Background(), []domain.Post{post("a", "")})
	require.Error(t, err)
}

func TestFilterEmptyBatch(t *testing.T) {
	t.Parallel()

	kept, dups, err := NewGate(nil, nil).Filter(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, kept)
	assert.Zero(t, dups)
}
