package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// CoordinatorCfg configura o processo do plano de controle.
type CoordinatorCfg struct {
	LogLevel      string        `json:"log_level" yaml:"log_level"`
	HTTPAddr      string        `json:"http_addr" yaml:"http_addr"`
	MaxPartitions int           `json:"max_partitions" yaml:"max_partitions"`
	StageTimeout  time.Duration `json:"stage_timeout" yaml:"stage_timeout"`
	EtcdEndpoints []string      `json:"etcd_endpoints" yaml:"etcd_endpoints"`
}

// WorkerCfg configura um processo de worker.
type WorkerCfg struct {
	LogLevel       string `json:"log_level" yaml:"log_level"`
	WorkerID       string `json:"worker_id" yaml:"worker_id"`
	HTTPAddr       string `json:"http_addr" yaml:"http_addr"`
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	CoordinatorURL string `json:"coordinator_url" yaml:"coordinator_url"`
}

var (
	cfgCoordinator = CoordinatorCfg{
		LogLevel:      "info",
		HTTPAddr:      ":8080",
		MaxPartitions: 4,
	}
	cfgWorker = WorkerCfg{
		LogLevel:       "info",
		HTTPAddr:       ":8081",
		CoordinatorURL: "http://localhost:8080",
	}
)

// LoadCoordinatorCfg lê o YAML por cima dos defaults. Caminho vazio mantém
// só os defaults.
func LoadCoordinatorCfg(cfgPath string) error {
	if cfgPath == "" {
		return nil
	}
	return loadYAML(cfgPath, &cfgCoordinator)
}

func LoadWorkerCfg(cfgPath string) error {
	if cfgPath == "" {
		return nil
	}
	return loadYAML(cfgPath, &cfgWorker)
}

func CoordinatorConfig() *CoordinatorCfg {
	return &cfgCoordinator
}

func WorkerConfig() *WorkerCfg {
	return &cfgWorker
}

func loadYAML(path string, out interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return yaml.NewDecoder(file).Decode(out)
}
