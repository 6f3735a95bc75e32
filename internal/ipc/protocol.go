package ipc

const SocketPath = "/tmp/stimsync.sock"

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"` // Optional data in response
}

// --- Command Argument Structs ---

type SignalArgs struct {
	Name string `json:"name"` // experiment_start, is_saving, hardware_triggered, is_waiting, stop
}

type PushSettingsArgs struct {
	Settings map[string]interface{} `json:"settings"`
}

// --- Command Names (Constants) ---

const (
	CmdPing         = "ping" // Simple health check
	CmdGetStatus    = "get_status"
	CmdSetSignal    = "set_signal"
	CmdClearSignal  = "clear_signal"
	CmdPushSettings = "push_settings"
)

// --- Status Response Data ---

type SignalState struct {
	Name string `json:"name"`
	Set  bool   `json:"set"`
}

type StatusData struct {
	ScanningTrigger bool          `json:"scanning_trigger"`
	Link            string        `json:"link"`
	Signals         []SignalState `json:"signals"`
	ConditionMet    bool          `json:"condition_met"`
	CyclesFired     int64         `json:"cycles_fired"`
	LastDuration    *float64      `json:"last_duration,omitempty"`
	DurationCount   int64         `json:"duration_count"`
	LastDeliveredAt string        `json:"last_delivered_at,omitempty"`
	PendingSettings int           `json:"pending_settings"`
}
