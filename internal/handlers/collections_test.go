package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avvvet/mute-api/internal/mcp"
)

var popular = []string{"pudgypenguins", "boredapeyachtclub", "azuki", "doodles-official"}

// recordingSession captures the arguments of each call.
type recordingSession struct {
	fakeSession
	args []json.RawMessage
}

func (s *recordingSession) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallResult, error) {
	s.args = append(s.args, args)
	return s.fakeSession.CallTool(ctx, name, args)
}

type recordingConnector struct {
	session *recordingSession
}

func (c *recordingConnector) Configured() bool { return true }

func (c *recordingConnector) Connect(context.Context) (mcp.Session, error) {
	return c.session, nil
}

func TestLookupSlugs(t *testing.T) {
	h := NewCollectionsHandler(nil, popular, zap.NewNop())

	assert.Equal(t, []string{"pudgypenguins", "boredapeyachtclub"}, h.LookupSlugs(TrendingSlug, 2))
	assert.Equal(t, []string{"milady", "pudgypenguins", "boredapeyachtclub"}, h.LookupSlugs("milady", 3))
	assert.Equal(t, []string{"milady"}, h.LookupSlugs("milady", 1))
	assert.Len(t, h.LookupSlugs("milady", 0), len(popular)+1, "default limit exceeds the popular set")
}

func TestLookup(t *testing.T) {
	session := &recordingSession{fakeSession: fakeSession{results: map[string]*mcp.CallResult{
		collectionsTool: textResult(`{"collections":[
			{"slug":"milady","name":"Milady Maker","imageUrl":"https://img/m.png","stats":{"floorPrice":{"native":{"unit":2.5}}}},
			{"slug":"pudgypenguins","name":"Pudgy Penguins"},
			{"slug":"boredapeyachtclub"}
		]}`),
	}}}
	h := NewCollectionsHandler(&recordingConnector{session: session}, popular, zap.NewNop())

	got, err := h.Lookup(context.Background(), "milady", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Milady Maker", got[0].Name)
	assert.Equal(t, "https://img/m.png", got[0].DisplayImageURL)
	assert.Equal(t, 2.5, got[0].FloorPrice)
	assert.Equal(t, 1, session.closed)

	require.Len(t, session.args, 1)
	assert.JSONEq(t, `{"slugs":["milady","pudgypenguins"],"includes":["basic_stats"]}`, string(session.args[0]))
}

func TestLookup_Errors(t *testing.T) {
	unconfigured := NewCollectionsHandler(&fakeConnector{configured: false}, popular, zap.NewNop())
	_, err := unconfigured.Lookup(context.Background(), "azuki", 5)
	assert.ErrorIs(t, err, ErrToolsNotConfigured)

	_, err = unconfigured.Lookup(context.Background(), "", 5)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	failing := NewCollectionsHandler(&fakeConnector{configured: true, err: errors.New("boom")}, popular, zap.NewNop())
	_, err = failing.Lookup(context.Background(), "azuki", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	session := &fakeSession{errs: map[string]error{collectionsTool: errors.New("bad slug")}}
	toolFails := NewCollectionsHandler(&fakeConnector{configured: true, session: session}, popular, zap.NewNop())
	_, err = toolFails.Lookup(context.Background(), "azuki", 5)
	assert.EqualError(t, err, "bad slug")
	assert.Equal(t, 1, session.closed)
}

func TestListTools(t *testing.T) {
	session := &fakeSession{tools: []mcp.ToolDescriptor{{Name: "search_items"}, {Name: "get_collections"}}}
	h := NewCollectionsHandler(&fakeConnector{configured: true, session: session}, popular, zap.NewNop())

	tools, err := h.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)
	assert.Equal(t, 1, session.closed)

	empty := NewCollectionsHandler(&fakeConnector{configured: true, session: &fakeSession{}}, popular, zap.NewNop())
	tools, err = empty.ListTools(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tools)

	_, err = NewCollectionsHandler(nil, popular, zap.NewNop()).ListTools(context.Background())
	assert.ErrorIs(t, err, ErrToolsNotConfigured)
}
