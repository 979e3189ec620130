// Package keba implements the KeContact UDP wire protocol: plain-text
// commands sent to the charger and JSON report payloads received back.
// Everything in this package is pure computation; transport and session
// handling live under infra.
package keba
