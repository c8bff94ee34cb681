// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package cli wires the Netvault subcommands together: vault lifecycle,
// credential management, and interactive connections. Commands load shared
// services (config, database, vault) through a persistent pre-run hook so
// every subcommand sees the same environment.
package cli
