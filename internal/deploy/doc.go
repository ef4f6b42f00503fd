// Package deploy pushes built agents onto remote hosts over SSH and starts
// them under systemd. The transport is abstracted behind Dialer and Session
// so orchestration logic tests run against an in-memory fake. Every deploy
// records exactly one terminal activity and the agent's resulting status.
package deploy
