package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"rbw-core/internal/models"
)

// Message types exchanged with game servers.
const (
	TypeCheckPlayer              = "check_player"
	TypePlayerStatus             = "player_status"
	TypeWarpPlayers              = "warp_players"
	TypeWarpSuccess              = "warp_success"
	TypeWarpFailedArenaNotFound  = "warp_failed_arena_not_found"
	TypeWarpFailedOfflinePlayers = "warp_failed_offline_players"
	TypeRetryGame                = "retrygame"
	TypeScoring                  = "scoring"
	TypeVoiding                  = "voiding"
	TypeCallCmd                  = "callcmd"
	TypeCallSuccess              = "callsuccess"
	TypeCallFailure              = "callfailure"
	TypeQueueFromIngame          = "queuefromingame"
	TypeQueueJoinSuccess         = "queue_join_success"
	TypeQueueJoinError           = "queue_join_error"
	TypeQueueStatus              = "queuestatus"
	TypeAutoSS                   = "autoss"
	TypeScreenshareDontLog       = "screensharedontlog"
	TypeVerify                   = "verify"
	TypeVerifySuccess            = "verify_success"
	TypeVerifyFailure            = "verify_failure"
	TypeError                    = "error"
)

// responseTypes only ever answer a request issued by the core. When one
// arrives with no pending request it is stale and dropped silently.
var responseTypes = map[string]bool{
	TypePlayerStatus:             true,
	TypeWarpSuccess:              true,
	TypeWarpFailedArenaNotFound:  true,
	TypeWarpFailedOfflinePlayers: true,
	TypeError:                    true,
}

// Validatable payloads are checked before their handler runs.
type Validatable interface {
	Validate() error
}

// Message is one decoded frame.
type Message struct {
	Type      string
	RequestID string
	Raw       json.RawMessage
}

// Decode unmarshals the whole frame into v.
func (m Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return models.Invalid("payload", fmt.Sprintf("malformed %s: %v", m.Type, err))
	}
	return nil
}

type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

func decodeFrame(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, models.Invalid("frame", "not a JSON object")
	}
	if env.Type == "" {
		return Message{RequestID: env.RequestID, Raw: frame}, models.Invalid("type", "required")
	}
	return Message{Type: env.Type, RequestID: env.RequestID, Raw: frame}, nil
}

// encodeFrame flattens payload into a JSON object carrying type and
// request_id alongside the payload fields.
func encodeFrame(msgType, requestID string, payload interface{}) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", msgType, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%s payload must be a JSON object: %w", msgType, err)
		}
	}
	t, _ := json.Marshal(msgType)
	fields["type"] = t
	if requestID != "" {
		id, _ := json.Marshal(requestID)
		fields["request_id"] = id
	}
	return json.Marshal(fields)
}

func required(fields map[string]string, name, value string) {
	if strings.TrimSpace(value) == "" {
		fields[name] = "required"
	}
}

func validation(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return models.NewValidationError(fields)
}

type CheckPlayer struct {
	IGN string `json:"ign"`
}

type PlayerStatus struct {
	IGN    string `json:"ign"`
	Online bool   `json:"online"`
}

func (m PlayerStatus) Validate() error {
	f := map[string]string{}
	required(f, "ign", m.IGN)
	return validation(f)
}

type WarpPlayer struct {
	IGN  string `json:"ign"`
	UUID string `json:"uuid"`
}

type WarpPlayers struct {
	GameID   string       `json:"game_id"`
	Map      string       `json:"map"`
	IsRanked bool         `json:"is_ranked"`
	Team1    []WarpPlayer `json:"team1"`
	Team2    []WarpPlayer `json:"team2"`
}

type WarpSuccess struct {
	GameID string `json:"game_id"`
}

type WarpFailedArenaNotFound struct {
	GameID string `json:"game_id"`
	Map    string `json:"map"`
}

type WarpFailedOfflinePlayers struct {
	GameID         string   `json:"game_id"`
	OfflinePlayers []string `json:"offline_players"`
}

type RetryGame struct {
	GameID string `json:"gameid"`
}

func (m RetryGame) Validate() error {
	f := map[string]string{}
	required(f, "gameid", m.GameID)
	return validation(f)
}

type Scoring struct {
	GameID            string                            `json:"gameid"`
	WinningTeamNumber int                               `json:"winningTeamNumber"`
	MVPs              []string                          `json:"mvps,omitempty"`
	BedsBroken        []string                          `json:"bedsbroken,omitempty"`
	Players           map[string]models.PlayerGameStats `json:"players"`
}

func (m Scoring) Validate() error {
	f := map[string]string{}
	required(f, "gameid", m.GameID)
	if m.WinningTeamNumber != 1 && m.WinningTeamNumber != 2 {
		f["winningTeamNumber"] = "must be 1 or 2"
	}
	for ign, s := range m.Players {
		if s.Kills < 0 || s.Deaths < 0 || s.BedsBroken < 0 {
			f["players."+ign] = "stats must be non-negative"
		}
	}
	return validation(f)
}

type Voiding struct {
	GameID string `json:"gameid"`
	Reason string `json:"reason,omitempty"`
}

func (m Voiding) Validate() error {
	f := map[string]string{}
	required(f, "gameid", m.GameID)
	return validation(f)
}

type CallCmd struct {
	RequesterIGN string `json:"requester_ign"`
	TargetIGN    string `json:"target_ign"`
}

func (m CallCmd) Validate() error {
	f := map[string]string{}
	required(f, "requester_ign", m.RequesterIGN)
	required(f, "target_ign", m.TargetIGN)
	return validation(f)
}

type CallResult struct {
	RequesterIGN string `json:"requester_ign"`
	TargetIGN    string `json:"target_ign"`
	Reason       string `json:"reason,omitempty"`
}

type QueueFromIngame struct {
	IGN       string `json:"ign"`
	QueueType string `json:"queue_type"`
}

func (m QueueFromIngame) Validate() error {
	f := map[string]string{}
	required(f, "ign", m.IGN)
	required(f, "queue_type", m.QueueType)
	return validation(f)
}

type QueueJoinResult struct {
	IGN     string `json:"ign"`
	QueueID string `json:"queue_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type EloRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type QueueStatusEntry struct {
	Players  []string `json:"players"`
	EloRange EloRange `json:"elo_range"`
	Capacity int      `json:"capacity"`
}

type QueueStatus struct {
	Queues map[string]QueueStatusEntry `json:"queues"`
}

type AutoSS struct {
	TargetIGN    string `json:"target_ign"`
	RequesterIGN string `json:"requester_ign,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func (m AutoSS) Validate() error {
	f := map[string]string{}
	required(f, "target_ign", m.TargetIGN)
	return validation(f)
}

type ScreenshareDontLog struct {
	TargetIGN    string `json:"target_ign"`
	RequesterIGN string `json:"requester_ign,omitempty"`
}

func (m ScreenshareDontLog) Validate() error {
	f := map[string]string{}
	required(f, "target_ign", m.TargetIGN)
	return validation(f)
}

type Verify struct {
	IGN  string `json:"ign"`
	UUID string `json:"uuid,omitempty"`
	Code string `json:"code"`
}

func (m Verify) Validate() error {
	f := map[string]string{}
	required(f, "ign", m.IGN)
	required(f, "code", m.Code)
	return validation(f)
}

type VerifyResult struct {
	IGN     string `json:"ign"`
	Message string `json:"message,omitempty"`
}

// ErrorReply is sent for a failed request that carried a request_id.
type ErrorReply struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}
