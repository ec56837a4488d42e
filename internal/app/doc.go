// Package app composes the issuance ledger into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── auth/               # Authority policies for privileged operations
//	├── domain/item/        # Item configuration, settings and mint journal models
//	├── httpapi/            # HTTP API handlers, routing and middleware
//	├── lock/               # Serialization lock (in-process and Redis)
//	├── metrics/            # Prometheus collectors
//	├── rail/               # Payment rail interface, memory rail, HTTP rail client
//	├── runtime/            # Config-driven assembly of ledgerd and its HTTP server
//	├── services/
//	│   ├── issuance/       # Issuance engine and administration surface
//	│   └── windows/        # Cron-driven sale window watcher
//	├── storage/            # Catalog and holding store interfaces
//	│   ├── memory/         # In-memory implementation for tests and local runs
//	│   └── postgres/       # PostgreSQL implementation for production
//	└── system/             # Lifecycle manager
//
// # Responsibilities
//
// The app package wires stores, the payment rail, the authority policy and
// the serialization lock into the issuance service, and registers background
// services with the lifecycle manager. Business rules live in
// services/issuance; this package holds no validation of its own.
//
// # Dependency Direction
//
//	cmd/ledgerd/ ──► internal/app/runtime ──► internal/config
//	                        │
//	                        ▼
//	internal/app/ (composition)
//	      │
//	      ├──► services/issuance ──► storage, rail, auth, lock
//	      ├──► services/windows  ──► services/issuance (read only)
//	      └──► httpapi           ──► services/issuance
package app
