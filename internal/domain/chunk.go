package domain

import (
	"encoding/json"
	"fmt"
)

// Chunk is a timestamped transcript segment. End is nil while the segment is still open.
type Chunk struct {
	Text  string
	Start float64
	End   *float64
}

type chunkJSON struct {
	Text      string     `json:"text"`
	Timestamp []*float64 `json:"timestamp"`
}

// MarshalJSON writes the worker wire form {"text": ..., "timestamp": [start, end|null]}.
func (c Chunk) MarshalJSON() ([]byte, error) {
	start := c.Start
	return json.Marshal(chunkJSON{
		Text:      c.Text,
		Timestamp: []*float64{&start, c.End},
	})
}

// UnmarshalJSON reads the worker wire form.
func (c *Chunk) UnmarshalJSON(data []byte) error {
	var raw chunkJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Timestamp) != 2 {
		return fmt.Errorf("chunk timestamp: want 2 elements, got %d", len(raw.Timestamp))
	}
	if raw.Timestamp[0] == nil {
		return fmt.Errorf("chunk timestamp: start is null")
	}

	c.Text = raw.Text
	c.Start = *raw.Timestamp[0]
	c.End = nil
	if raw.Timestamp[1] != nil {
		end := *raw.Timestamp[1]
		c.End = &end
	}
	return nil
}

// CloneChunks deep-copies chunks including their end pointers.
func CloneChunks(in []Chunk) []Chunk {
	if in == nil {
		return nil
	}
	out := make([]Chunk, len(in))
	for i, c := range in {
		if c.End != nil {
			end := *c.End
			c.End = &end
		}
		out[i] = c
	}
	return out
}

// Float returns a pointer to v, for building closed chunk ranges.
func Float(v float64) *float64 {
	return &v
}
