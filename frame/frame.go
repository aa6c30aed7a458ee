// Package frame parses decoded stream lines into typed frames.
package frame

// Kind identifies the variant carried by a Frame.
type Kind string

const (
	KindIgnorable  Kind = "ignorable"
	KindContent    Kind = "content_delta"
	KindMetadata   Kind = "metadata"
	KindTerminator Kind = "terminator"
)

// MetadataType is the discriminator value marking a metadata record.
const MetadataType = "trust_metadata"

// DoneSentinel is the payload that ends a stream.
const DoneSentinel = "[DONE]"

// Frame is one parsed unit of the inbound event protocol.
type Frame struct {
	Kind     Kind      `json:"kind"`
	Text     string    `json:"text,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Metadata annotates the in-flight assistant message.
type Metadata struct {
	ConfidenceLevel string       `json:"confidenceLevel"`
	DataSensitivity string       `json:"dataSensitivity"`
	IsInference     bool         `json:"isInference"`
	DataSignals     *DataSignals `json:"dataSignals,omitempty"`
	Explanation     string       `json:"explanation"`
	Factors         []string     `json:"factors"`
}

// DataSignals describes which business data informed a response.
type DataSignals struct {
	HasBusinessProfile bool    `json:"hasBusinessProfile"`
	HasRecentSessions  bool    `json:"hasRecentSessions"`
	HasDocuments       bool    `json:"hasDocuments"`
	HasMetrics         bool    `json:"hasMetrics"`
	MemoryCompleteness float64 `json:"memoryCompleteness"`
}

// Clone returns a deep copy so callers never share a mutable annotation.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.DataSignals != nil {
		ds := *m.DataSignals
		c.DataSignals = &ds
	}
	if m.Factors != nil {
		c.Factors = append([]string(nil), m.Factors...)
	}
	return &c
}

// Ignorable, Terminator and Content are convenience constructors.
func Ignorable() Frame          { return Frame{Kind: KindIgnorable} }
func Terminator() Frame         { return Frame{Kind: KindTerminator} }
func Content(text string) Frame { return Frame{Kind: KindContent, Text: text} }

// MetadataFrame wraps m in a Frame.
func MetadataFrame(m *Metadata) Frame { return Frame{Kind: KindMetadata, Metadata: m} }
