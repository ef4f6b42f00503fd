// Package server exposes the lisa-backend HTTP API: role and template
// management, agent generation and config export, build and deployment
// triggers, heartbeat ingestion, and monitoring views. Handlers are thin;
// domain behavior lives in the store and orchestrator packages. A websocket
// hub streams new activities to connected watchers.
package server
