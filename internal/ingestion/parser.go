package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"PerpVAMM/internal/event"
	"PerpVAMM/internal/oracle"
)

// Subject roots. Commands are published on CommandSubjectPrefix + the
// directive type, oracle readings on OracleSubjectPrefix + the oracle name,
// and history records on HistorySubjectPrefix + "{kind}.{market}".
const (
	CommandSubjectPrefix = "perp.vamm.cmd."
	OracleSubjectPrefix  = "perp.vamm.oracle."
	HistorySubjectPrefix = "perp.vamm.history."
)

// ErrMalformed marks a message that can never be processed. Such messages
// are terminated instead of redelivered.
var ErrMalformed = errors.New("malformed message")

// RawMessage is an inbound message before it is parsed.
type RawMessage struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

// ParseDirective decodes a command message. The subject's last token, when
// it is not a wildcard catch-all, must name the envelope's directive type.
func ParseDirective(raw RawMessage) (event.Directive, error) {
	d, err := event.Decode(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if name, ok := strings.CutPrefix(raw.Subject, CommandSubjectPrefix); ok && name != "" && name != "any" {
		if name != d.DirectiveType().String() {
			return nil, fmt.Errorf("%w: subject %s carries %s", ErrMalformed, raw.Subject, d.DirectiveType())
		}
	}
	return d, nil
}

// CommandSubject is the subject a directive of type t is published on.
func CommandSubject(t event.DirectiveType) string {
	return CommandSubjectPrefix + t.String()
}

// oracleReadingJSON is the oracle push payload. Price and confidence are
// decimal strings at mark price precision.
type oracleReadingJSON struct {
	Oracle string `json:"oracle"`
	oracle.Reading
}

// ParseOracleReading decodes an oracle push. The oracle name comes from the
// subject, or from the payload when the subject has none.
func ParseOracleReading(raw RawMessage) (string, oracle.Reading, error) {
	var j oracleReadingJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return "", oracle.Reading{}, fmt.Errorf("%w: parse oracle reading: %v", ErrMalformed, err)
	}
	name := j.Oracle
	if suffix, ok := strings.CutPrefix(raw.Subject, OracleSubjectPrefix); ok && suffix != "" {
		name = suffix
	}
	if name == "" {
		return "", oracle.Reading{}, fmt.Errorf("%w: oracle reading without name", ErrMalformed)
	}
	if j.Slot < 0 {
		return "", oracle.Reading{}, fmt.Errorf("%w: negative slot %d", ErrMalformed, j.Slot)
	}
	return name, j.Reading, nil
}

// HistorySubject is the subject a record is published on. Records without a
// market go to the "global" token.
func HistorySubject(r event.Record) string {
	market := "global"
	if r.MarketIndex != nil {
		market = fmt.Sprintf("%d", *r.MarketIndex)
	}
	return fmt.Sprintf("%s%s.%s", HistorySubjectPrefix, r.Kind, market)
}
