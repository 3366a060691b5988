package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultSecretsDir - директория docker-секретов по умолчанию.
const defaultSecretsDir = "/run/secrets"

// ReadSecret читает секрет по имени: сначала из файла в директории секретов,
// затем из переменной окружения <ИМЯ_ВЕРХНИМ_РЕГИСТРОМ> как фолбэк для локальной разработки.
func ReadSecret(name string) (string, error) {
	dir := os.Getenv("SECRETS_DIR")
	if dir == "" {
		dir = defaultSecretsDir
	}

	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}

	// Фолбэк на переменную окружения
	envName := strings.ToUpper(name)
	if val := os.Getenv(envName); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("секрет '%s' не найден ни в %s, ни в переменной %s", name, path, envName)
}
