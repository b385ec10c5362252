// Package app provides the Application Composition Layer for the raffle
// service.
//
// # Architecture Role
//
// The app package composes the raffle modules into a running application. It
// is NOT a business logic layer - business logic belongs in
// internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Main application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── raffle/         # Rounds, entries, upkeep snapshots
//	│   └── ledger/         # Custody accounts and transfers
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (RaffleStore, LedgerStore)
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── raffle/         # Round lifecycle, upkeep, fulfillment
//	│   ├── ledger/         # Escrow and player account custody
//	│   └── vrf/            # Randomness provider clients
//	├── events/             # Notification hub and websocket feed
//	├── httpapi/            # HTTP API handlers and routing
//	├── system/             # Lifecycle management
//	└── metrics/            # Application metrics
//
// # Dependency Direction
//
// cmd/raffled depends on internal/app, which wires services over storage
// interfaces. Services never import httpapi, and storage never imports
// services.
package app
