package entitymanager

import (
	"encoding/json"
	"fmt"
)

// ManageEntityEvent is the log name emitted by the entity manager contract.
const ManageEntityEvent = "ManageEntity"

// RawLog is one emitted log of a transaction, in emission order.
type RawLog struct {
	Event string          `json:"event"`
	Args  json.RawMessage `json:"args"`
}

// RawTransaction is a transaction with its emitted logs.
type RawTransaction struct {
	Hash string   `json:"hash"`
	Logs []RawLog `json:"logs"`
}

type manageEntityArgs struct {
	UserID     json.Number `json:"_userId"`
	EntityType string      `json:"_entityType"`
	EntityID   json.Number `json:"_entityId"`
	Metadata   string      `json:"_metadata"`
	Action     string      `json:"_action"`
	Signer     string      `json:"_signer"`
}

// DecodeTransaction extracts the ManageEntity events of tx in log order.
// Other logs are ignored. Field values are not validated.
func DecodeTransaction(tx RawTransaction) ([]Event, error) {
	events := make([]Event, 0, len(tx.Logs))
	for position, log := range tx.Logs {
		if log.Event != ManageEntityEvent {
			continue
		}
		var args manageEntityArgs
		if err := json.Unmarshal(log.Args, &args); err != nil {
			return nil, fmt.Errorf("decode %s log %d: %w", tx.Hash, position, err)
		}
		userID, err := parseNumber(args.UserID)
		if err != nil {
			return nil, fmt.Errorf("decode %s log %d user id: %w", tx.Hash, position, err)
		}
		entityID, err := parseNumber(args.EntityID)
		if err != nil {
			return nil, fmt.Errorf("decode %s log %d entity id: %w", tx.Hash, position, err)
		}
		events = append(events, Event{
			EntityID:      entityID,
			EntityType:    EntityType(args.EntityType),
			UserID:        userID,
			Action:        Action(args.Action),
			Metadata:      args.Metadata,
			SignerAddress: args.Signer,
			TxHash:        tx.Hash,
		})
	}
	return events, nil
}

// Flatten concatenates per-transaction events preserving block order and
// assigns each event its global index.
func Flatten(perTransaction [][]Event) []Event {
	total := 0
	for _, events := range perTransaction {
		total += len(events)
	}
	flat := make([]Event, 0, total)
	for _, events := range perTransaction {
		for _, event := range events {
			event.Index = len(flat)
			flat = append(flat, event)
		}
	}
	return flat
}

func parseNumber(value json.Number) (int64, error) {
	if value == "" {
		return 0, nil
	}
	return value.Int64()
}
