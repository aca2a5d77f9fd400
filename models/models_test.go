package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]Category{
		"image":    CategoryImage,
		" Images ": CategoryImage,
		"VIDEOS":   CategoryVideo,
		"video":    CategoryVideo,
		"document": CategoryDocument,
		"":         CategoryDocument,
		"audio":    CategoryDocument,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeCategory(in), in)
	}
}

func TestCategoryVariants(t *testing.T) {
	assert.Equal(t, []string{"Images", "image", "images"}, CategoryVariants("Images"))
	assert.Equal(t, []string{"document", "documents"}, CategoryVariants("document"))
	assert.Nil(t, CategoryVariants("  "))
}

func TestIsVisible(t *testing.T) {
	assert.True(t, IsVisible("active"))
	assert.True(t, IsVisible(""))
	assert.False(t, IsVisible(" Hidden"))
}

func chain(n int) []AuditEvent {
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	events := make([]AuditEvent, n)
	prev := ""
	for i := range events {
		e := &events[i]
		e.ID = string(rune('a' + i))
		e.Actor = "admin"
		e.Action = "UPDATE"
		e.Resource = "mongo"
		e.Status = 200
		e.Success = true
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		e.PreviousHash = prev
		e.CurrentHash = e.ComputeHash()
		prev = e.CurrentHash
	}
	return events
}

func TestVerifyEvents(t *testing.T) {
	ok, broken := VerifyEvents(chain(3))
	assert.True(t, ok)
	assert.Empty(t, broken)

	ok, _ = VerifyEvents(nil)
	assert.True(t, ok)

	tampered := chain(3)
	tampered[1].Status = 500
	ok, broken = VerifyEvents(tampered)
	assert.False(t, ok)
	assert.Equal(t, "b", broken)

	relinked := chain(3)
	relinked[2].PreviousHash = "x"
	relinked[2].CurrentHash = relinked[2].ComputeHash()
	ok, broken = VerifyEvents(relinked)
	assert.False(t, ok)
	assert.Equal(t, "c", broken)
}

func TestAuditFilter(t *testing.T) {
	assert.Equal(t, bson.M{}, AuditFilter{}.bson())

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := AuditFilter{Actor: "admin", Resource: "import", From: from}.bson()
	assert.Equal(t, "admin", f["actor"])
	assert.Equal(t, "import", f["resource"])
	assert.Equal(t, bson.M{"$gte": from}, f["timestamp"])
	assert.NotContains(t, f, "action")
}
