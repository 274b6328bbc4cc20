// Package client provides the `engram` command-line client.
//
// The CLI talks to the Engram HTTP endpoint to perform common stream
// operations from a terminal. It is primarily intended for developers
// and operators.
//
// Installation
//
//	go install github.com/rzbill/engram/cmd/engram@latest
//
// Or build from this repo and use the embedded `engram` binary.
//
// # Address configuration
//
// The HTTP base URL is discovered by the application that embeds the
// commands via a BaseURLFunc. When using the standalone binary, it is
// read from the ENGRAM_HTTP environment variable and defaults to
// http://127.0.0.1:8080.
//
// Usage
//
//	engram stream create --name demo --buffer-capacity 8192
//
//	engram stream publish \
//	    --stream demo --kind experience-added \
//	    --step 42 --state 0.1,0.2,0.3 --action 1.0 \
//	    --reward 0.5 --reward-total 12.5
//
//	engram stream get --stream demo --seq 42
//	engram stream range --stream demo --start 100 --end 200
//
//	engram stream sample --stream demo --size 32 --strategy reward_weighted
//	engram stream sample --stream demo --size 16 --strategy by_kind --kind edge-updated
//	engram stream sample --stream demo --filter 'reward > 0.0 && step >= 100'
//
//	engram stream stats --stream demo
//	engram stream list
//
//	# Follow live events over SSE; --limit stops after N events
//	engram stream subscribe --stream demo --limit 5
//	engram stream subscribe --stream demo --filter 'kind == "edge-updated"'
//
//	# Re-score a live event in place
//	engram stream reward --stream demo --seq 42 --field reward --value 1.5
//
//	# Durability controls
//	engram stream flush --stream demo
//	engram stream snapshot --stream demo
//	engram stream compact --stream demo --confirm
//
//	# Consumer cursors
//	engram cursor commit --stream demo --group trainer --seq 100
//	engram cursor get --stream demo --group trainer
//	engram cursor list --stream demo
//
// Notes
//
//   - subscribe holds the HTTP connection open and prints one JSON
//     object per event as the server emits them. Use --limit to stop
//     after a fixed number of events, or interrupt to detach.
//   - compact drops journal entries that precede the last snapshot
//     marker and requires --confirm since the history is not
//     recoverable afterwards.
//   - publish prints the assigned sequence number; sample and range
//     print the matching events as indented JSON.
package client
