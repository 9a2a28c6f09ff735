package model

import "encoding/json"

// BigMapData is one big-map diff produced within a block.
type BigMapData struct {
	Level           int64
	OperationID     string
	ContractAddress string
	Path            string
	Action          BigMapAction
	Key             json.RawMessage
	Value           json.RawMessage
}

// HeadBlockData is a new block head delivered to a HeadIndex.
type HeadBlockData struct {
	Level     int64
	Hash      string
	Timestamp int64
	Protocol  string
}
