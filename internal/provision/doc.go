// Package provision verifies the provisioning key a device presents when it
// asks for firmware.
//
// A provisioned device holds a fleet-wide key. It never sends the key itself;
// it sends HashToken(key + mac), the 64-bit FNV-1a hash of the key
// concatenated with its MAC address, rendered as 16 lower-case hex digits.
// Binding the hash to the MAC keeps one device's hash from being replayed by
// another.
//
// A Verifier built with an empty key accepts any non-empty hash, which lets a
// fleet run without provisioning while still distinguishing devices that
// were never provisioned.
package provision
