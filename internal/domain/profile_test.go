package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserInterestProfile_AddKeywords(t *testing.T) {
	tests := []struct {
		name    string
		initial []string
		add     []string
		want    []string
	}{
		{
			name: "appends new keywords in order",
			add:  []string{"graph", "embedding"},
			want: []string{"graph", "embedding"},
		},
		{
			name:    "case-insensitive duplicate moves to most recent end",
			initial: []string{"Graph", "ontology"},
			add:     []string{"graph"},
			want:    []string{"ontology", "graph"},
		},
		{
			name:    "blank keywords are ignored",
			initial: []string{"ontology"},
			add:     []string{"", "  "},
			want:    []string{"ontology"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewUserInterestProfile("u1")
			p.Keywords = append(p.Keywords, tt.initial...)
			p.AddKeywords(tt.add...)
			assert.Equal(t, tt.want, []string(p.Keywords))
		})
	}
}

func TestUserInterestProfile_AddKeywordsEvictsOldest(t *testing.T) {
	p := NewUserInterestProfile("u1")
	for i := 0; i < MaxProfileKeywords+5; i++ {
		p.AddKeywords(fmt.Sprintf("kw-%02d", i))
	}

	require.Len(t, p.Keywords, MaxProfileKeywords)
	assert.Equal(t, "kw-05", p.Keywords[0])
	assert.Equal(t, fmt.Sprintf("kw-%02d", MaxProfileKeywords+4), p.Keywords[MaxProfileKeywords-1])
}

func TestUserInterestProfile_History(t *testing.T) {
	p := NewUserInterestProfile("u1")
	now := time.Now()
	p.RecordEvent("a", ActionView, now)
	p.RecordEvent("b", ActionSave, now)
	p.RecordEvent("a", ActionDownload, now)

	assert.Len(t, p.ReadingHistory, 3)
	assert.Contains(t, p.SeenPaperIDs(), "a")
	assert.Contains(t, p.SeenPaperIDs(), "b")
	assert.Equal(t, []string{"a", "b"}, p.RecentPaperIDs(5))
	assert.Equal(t, []string{"a"}, p.RecentPaperIDs(1))
}

func TestParseInteractionAction(t *testing.T) {
	a, err := ParseInteractionAction(" Save ")
	require.NoError(t, err)
	assert.Equal(t, ActionSave, a)

	_, err = ParseInteractionAction("like")
	assert.Error(t, err)
}
