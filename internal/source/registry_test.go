package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LeadScanner/internal/domain"
)

type nopClient struct{}

func (nopClient) Fetch(context.Context, string, time.Time, int) ([]domain.RawItem, error) {
	return nil, nil
}

func TestBindResolvesClientsInOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("reddit", nopClient{})

	sources, err := reg.Bind([]Spec{
		{Name: "housing", Client: "reddit", Collections: []string{"RealEstate", "FirstTimeHomeBuyer"}},
		{Name: "cities", Client: "reddit", Collections: []string{"LosAngeles"}},
	})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "housing", sources[0].Name)
	assert.Equal(t, []string{"RealEstate", "FirstTimeHomeBuyer"}, sources[0].Collections)
}

func TestBindRejectsUnknownClientAndEmptyCollections(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("reddit", nopClient{})

	_, err := reg.Bind([]Spec{{Name: "x", Client: "hn", Collections: []string{"top"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reddit")

	_, err = reg.Bind([]Spec{{Name: "x", Client: "reddit"}})
	require.Error(t, err)
}
