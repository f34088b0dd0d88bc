// Package bridge implements the web-chat bridge process: an OpenAI-subset
// HTTP server backed by an upstream web-chat service. It runs as a sibling
// of the gateway so it can be restarted independently, shares the SQLite
// database for sessions and credentials, and threads upstream chat and
// parent ids through the session manager so multi-turn conversations stay
// coherent.
package bridge
