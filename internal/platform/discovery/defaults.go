// Package discovery centralizes internal service-discovery conventions.
package discovery

import (
	"strconv"
	"strings"
)

const (
	// ServiceGame is the game runtime identity.
	ServiceGame = "game"
	// ServiceWorker is the worker runtime identity.
	ServiceWorker = "worker"
)

var grpcPorts = map[string]int{
	ServiceGame:   8082,
	ServiceWorker: 8089,
}

// DefaultGRPCPort returns the conventional health port of a service, or 0.
func DefaultGRPCPort(service string) int {
	return grpcPorts[strings.TrimSpace(service)]
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a service.
func DefaultGRPCAddr(service string) string {
	service = strings.TrimSpace(service)
	port := DefaultGRPCPort(service)
	if port <= 0 {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}

// OrDefaultGRPCAddr returns value when set, otherwise the service convention.
func OrDefaultGRPCAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}
