package config

import (
	"log"
	"strconv"
)

func parseInt(s string, fallback int) int {
	val, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("Warning: Invalid int for config value %q, using default %d", s, fallback)
		return fallback
	}
	return val
}

func parseInt64(s string, fallback int64) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Printf("Warning: Invalid int64 for config value %q, using default %d", s, fallback)
		return fallback
	}
	return val
}

func parseBool(s string) (bool, error) {
	return strconv.ParseBool(s)
}
