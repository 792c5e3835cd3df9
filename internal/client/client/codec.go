package client

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts v through its JSON form so the wire field names match
// the json tags on the models.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("empty response")
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

type recordEnvelope struct {
	Record *models.Record `json:"record"`
}

func decodeRecord(s *structpb.Struct) (models.Record, error) {
	var env recordEnvelope
	if err := fromStruct(s, &env); err != nil {
		return models.Record{}, fmt.Errorf("decode record: %w", err)
	}
	if env.Record == nil {
		return models.Record{}, fmt.Errorf("decode record: missing record field")
	}
	return *env.Record, nil
}

type listRequest struct {
	UserID   string          `json:"user_id,omitempty"`
	GroupID  string          `json:"group_id,omitempty"`
	Status   models.Status   `json:"status,omitempty"`
	Location models.Location `json:"location,omitempty"`
}

type listResponse struct {
	Records []models.Record `json:"records"`
}

type updateRequest struct {
	ID    string       `json:"id"`
	Patch models.Patch `json:"patch"`
}

type deleteRequest struct {
	ID        string `json:"id"`
	Hard      bool   `json:"hard,omitempty"`
	DeletedAt string `json:"deleted_at,omitempty"`
}

type idRequest struct {
	ID string `json:"id"`
}
