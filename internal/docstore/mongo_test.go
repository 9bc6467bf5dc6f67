package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "Schools", CollectionName("Schools"))
	assert.Equal(t, "Schools.s1.Classes", CollectionName("/Schools/s1/Classes/"))
}

func TestDocumentFromBSONNormalizesDriverTypes(t *testing.T) {
	when := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	raw := bson.M{
		"_id":         "c1",
		"classStart":  bson.NewDateTimeFromTime(when),
		"attachments": bson.A{"https://files/a.pdf"},
		"students":    int32(24),
		"meta":        bson.D{{Key: "room", Value: "B2"}},
	}

	doc := documentFromBSON("Schools/s1/Classes", raw)

	assert.Equal(t, "c1", doc.ID)
	_, hasID := doc.Fields["_id"]
	assert.False(t, hasID)
	assert.True(t, when.Equal(doc.Fields["classStart"].(time.Time)))
	assert.Equal(t, []any{"https://files/a.pdf"}, doc.Fields["attachments"])
	assert.Equal(t, int64(24), doc.Fields["students"])
	assert.Equal(t, map[string]any{"room": "B2"}, doc.Fields["meta"])
}
