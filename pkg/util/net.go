package util

import (
	"fmt"
	"net"
	"strings"
)

// IsValidIPv4 checks if a string is a valid IPv4 address
func IsValidIPv4(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.To4() != nil
}

// IsValidIPv4CIDR checks if a string is a valid IPv4 CIDR
func IsValidIPv4CIDR(cidr string) bool {
	ip, _, err := net.ParseCIDR(cidr)
	return err == nil && ip.To4() != nil
}

// IPInSubnet reports whether ip falls inside the cidr. Malformed input
// reports false.
func IPInSubnet(ip, cidr string) bool {
	addr := net.ParseIP(strings.TrimSpace(ip))
	_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if addr == nil || err != nil {
		return false
	}
	return network.Contains(addr)
}

// HostCIDR returns ip as a /32 network. An input that already carries a
// prefix is returned unchanged after validation.
func HostCIDR(ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if strings.Contains(ip, "/") {
		if !IsValidIPv4CIDR(ip) {
			return "", fmt.Errorf("invalid CIDR: %s", ip)
		}
		return ip, nil
	}
	if !IsValidIPv4(ip) {
		return "", fmt.Errorf("invalid IPv4 address: %s", ip)
	}
	return ip + "/32", nil
}

// NormalizeMAC lowercases a MAC address and validates its shape.
func NormalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("invalid MAC address: %s", mac)
	}
	return hw.String(), nil
}
