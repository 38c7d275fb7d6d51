// Package dhclient provides the DHCP client "interface" object kind.
//
// Ownership boundary:
// - interface objects, their flags and per-address client states
//
// - the injected interface list remote lookups scan
//
// - the update path: discovery, PREINIT scripts and reboot scheduling
//
// The DHCP wire protocol and lease state machine are not here; Deps.Reboot
// is where a lease engine takes over.
package dhclient
