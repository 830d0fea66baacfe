// Package sequence holds the shutdown/startup configuration model and the
// plan compiler for the ESD core.
//
// A Sequence owns ordered Steps. Each Step carries a typed ActionParams
// variant chosen by its ActionType, validated whenever the sequence is
// saved, imported or compiled. Interlocks and Permissives gate execution
// and are evaluated by package condition.
//
// Architecture:
//
//	┌──────────────┐   ┌──────────────┐   ┌──────────────────┐
//	│ YAML loader  │──▶│   Catalog    │──▶│ SQLiteRepository │
//	│ (loader.go)  │   │ (catalog.go) │   │ (repository.go)  │
//	└──────────────┘   └──────┬───────┘   └──────────────────┘
//	                          │ Snapshot
//	                          ▼
//	                   ┌──────────────┐
//	                   │   Compile    │  stages in dispatch order
//	                   │  (plan.go)   │
//	                   └──────────────┘
//
// # Stages
//
// Compile sorts steps by step number. A step with ParallelGroup 0 is a
// stage of its own. Steps sharing a non-zero group form one stage placed
// at the lowest step number in the group; equal positions are ordered by
// group id. Compiling the same sequence always yields the same plan.
//
// # Thread Safety
//
// Catalog is safe for concurrent use. Every read returns a deep copy, so a
// Snapshot taken for an execution never changes when the catalog is edited.
package sequence
