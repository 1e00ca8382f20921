package config

// DM policy values.
const (
	DMPolicyPairing  = "pairing"
	DMPolicyOpen     = "open"
	DMPolicyDisabled = "disabled"
)

// Group policy values.
const (
	GroupPolicyOpen      = "open"
	GroupPolicyAllowlist = "allowlist"
	GroupPolicyDisabled  = "disabled"
)

// Reply-to modes: whether a turn targets its thread.
const (
	ReplyToOff   = "off"
	ReplyToFirst = "first"
	ReplyToAll   = "all"
)

// AccountConfig holds policy and rendering settings for one bot account.
// Credentials live here only to be handed to the transport and directory
// collaborators; the pipeline never uses them directly.
type AccountConfig struct {
	Enabled   bool   `json:"enabled"`
	AppID     string `json:"app_id,omitempty"`
	AppSecret string `json:"app_secret,omitempty"`
	BotOpenID string `json:"bot_open_id,omitempty"` // the bot's own open id; structured mentions match against it

	AllowFrom       FlexibleStringSlice     `json:"allow_from"`                 // DM allowlist: ids, names, "*"
	DMPolicy        string                  `json:"dm_policy,omitempty"`        // "pairing" (default), "open", "disabled"
	GroupPolicy     string                  `json:"group_policy,omitempty"`     // "open" (default), "allowlist", "disabled"
	GroupAllowFrom  FlexibleStringSlice     `json:"group_allow_from,omitempty"` // group ids allowed under "allowlist"
	Groups          map[string]*GroupConfig `json:"groups,omitempty"`           // per-group overrides, keyed by conversation id
	RequireMention  *bool                   `json:"require_mention,omitempty"`  // default true (groups)
	MentionPatterns FlexibleStringSlice     `json:"mention_patterns,omitempty"` // text fallback when structured mentions are absent
	EnableCommands  *bool                   `json:"enable_commands,omitempty"`  // default true

	TextChunkLimit int    `json:"text_chunk_limit,omitempty"` // default 4000
	HistoryLimit   int    `json:"history_limit,omitempty"`    // max pending group messages for context (default 50, negative disables)
	RenderMode     string `json:"render_mode,omitempty"`      // "auto" (default), "plain", "rich"
	ReplyToMode    string `json:"reply_to_mode,omitempty"`    // "first" (default), "off", "all"
	MediaMaxMB     int    `json:"media_max_mb,omitempty"`     // default 30
}

// GroupConfig overrides account defaults for one group conversation.
type GroupConfig struct {
	Enabled        *bool               `json:"enabled,omitempty"`         // explicit disablement drops the group
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`      // per-group user allowlist
	RequireMention *bool               `json:"require_mention,omitempty"`
	HistoryLimit   *int                `json:"history_limit,omitempty"`
	ReplyToMode    string              `json:"reply_to_mode,omitempty"`
}

// GroupSettings is the fully resolved view of one group's configuration.
// Every field is populated; no optional layers remain.
type GroupSettings struct {
	Configured     bool // a per-group entry exists
	Enabled        bool
	AllowFrom      []string
	RequireMention bool
	HistoryLimit   int
	ReplyToMode    string
}

// ResolveAccount returns the effective config for an account id with
// defaults filled in. Unknown ids yield a disabled account.
func (c *Config) ResolveAccount(accountID string) AccountConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	acct, ok := c.Accounts[accountID]
	if !ok {
		return AccountConfig{}
	}
	a := *acct
	if a.DMPolicy == "" {
		a.DMPolicy = DMPolicyPairing
	}
	if a.GroupPolicy == "" {
		a.GroupPolicy = GroupPolicyOpen
	}
	if a.TextChunkLimit <= 0 {
		a.TextChunkLimit = 4000
	}
	if a.HistoryLimit == 0 {
		a.HistoryLimit = 50
	}
	if a.RenderMode == "" {
		a.RenderMode = "auto"
	}
	if a.ReplyToMode == "" {
		a.ReplyToMode = ReplyToFirst
	}
	if a.MediaMaxMB <= 0 {
		a.MediaMaxMB = 30
	}
	return a
}

// ResolveGroup merges the per-group override onto the account defaults.
// Precedence: explicit group field > account default. The result is fully
// populated.
func (c *Config) ResolveGroup(accountID, groupID string) GroupSettings {
	acct := c.ResolveAccount(accountID)

	c.mu.RLock()
	defer c.mu.RUnlock()

	s := GroupSettings{
		Enabled:        true,
		RequireMention: true,
		HistoryLimit:   acct.HistoryLimit,
		ReplyToMode:    acct.ReplyToMode,
	}
	if acct.RequireMention != nil {
		s.RequireMention = *acct.RequireMention
	}

	raw, ok := c.Accounts[accountID]
	if !ok {
		return s
	}
	g, ok := raw.Groups[groupID]
	if !ok {
		return s
	}
	s.Configured = true
	if g.Enabled != nil {
		s.Enabled = *g.Enabled
	}
	if len(g.AllowFrom) > 0 {
		s.AllowFrom = append([]string(nil), g.AllowFrom...)
	}
	if g.RequireMention != nil {
		s.RequireMention = *g.RequireMention
	}
	if g.HistoryLimit != nil {
		s.HistoryLimit = *g.HistoryLimit
	}
	if g.ReplyToMode != "" {
		s.ReplyToMode = g.ReplyToMode
	}
	return s
}

// CommandsEnabled reports whether control commands are honored for an
// account (default true).
func (a AccountConfig) CommandsEnabled() bool {
	return a.EnableCommands == nil || *a.EnableCommands
}
