// Package session derives conversation identity from message content and
// manages the lifetime of the resulting sessions. Stateless OpenAI-style
// clients resend the whole conversation each turn; hashing the first user
// message gives every replay of the same conversation the same session id,
// which is what lets the web-chat bridge thread upstream parent ids across
// turns.
package session
