package constants

// ChatBotUserID is the resident chat bot. It is exempt from channel
// permission checks, never receives enqueued bytes and never times out.
const ChatBotUserID = 999

// MinHumanUserID is the first real account id. Everything below is a
// service account whose sessions have no socket behind them.
const MinHumanUserID = 1000

// ProtocolVersion is the bancho protocol revision announced at login.
const ProtocolVersion = 19

// MaxQueueBytes bounds a session's outbound queue. Enqueues past the
// bound are dropped with a warning rather than growing without limit.
const MaxQueueBytes = 10 * 1000 * 1000

// MaxMessageLength is the longest chat message relayed verbatim; longer
// messages are truncated.
const MaxMessageLength = 2000

// MessageHistoryLength is how many rendered chat lines a session keeps
// for moderation review.
const MessageHistoryLength = 100

// MessageHistoryLineLength caps each stored chat line.
const MessageHistoryLineLength = 1000
