package lifecycle

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/Jonatan852/querygrid/pkg/qglog"
)

// labelWorkerID identifica containers de worker criados por este manager.
const labelWorkerID = "querygrid.worker"

// DockerManager sobe e remove processos de worker como containers. É usado
// por testes e pela CLI de operação, nunca pelo scheduler.
type DockerManager struct {
	cli   *client.Client
	image string
}

// NewDockerManager conecta no daemon local via variáveis de ambiente.
func NewDockerManager(image string) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithVersion("1.44"))
	if err != nil {
		return nil, err
	}
	if image == "" {
		image = "querygrid-worker:latest"
	}
	return &DockerManager{cli: cli, image: image}, nil
}

// Create sobe um container de worker com o ambiente dado e devolve o ID do
// container. O worker se registra sozinho no coordinator ao subir.
func (m *DockerManager) Create(ctx context.Context, workerID string, env map[string]string) (string, error) {
	envList := make([]string, 0, len(env)+1)
	envList = append(envList, "QUERYGRID_WORKER_ID="+workerID)
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	resp, err := m.cli.ContainerCreate(ctx, &container.Config{
		Image:  m.image,
		Env:    envList,
		Labels: map[string]string{labelWorkerID: workerID},
	}, nil, nil, nil, "querygrid-"+workerID)
	if err != nil {
		return "", fmt.Errorf("criação do container do worker %s falhou: %w", workerID, err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start do container do worker %s falhou: %w", workerID, err)
	}
	qglog.Zero.Info().
		Str("worker", workerID).
		Str("container", resp.ID[:12]).
		Msg("container de worker criado")
	return resp.ID, nil
}

// Remove derruba o container do worker. Com graceful, espera o container
// parar antes de remover; sem, força a remoção imediata.
func (m *DockerManager) Remove(ctx context.Context, workerID string, graceful bool) error {
	containerID, err := m.findContainer(ctx, workerID)
	if err != nil {
		return err
	}

	if graceful {
		timeout := 30 // segundos
		if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
			return fmt.Errorf("stop do worker %s falhou: %w", workerID, err)
		}
	}
	if err := m.cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: !graceful}); err != nil {
		return fmt.Errorf("remoção do worker %s falhou: %w", workerID, err)
	}
	qglog.Zero.Info().Str("worker", workerID).Bool("graceful", graceful).Msg("container de worker removido")
	return nil
}

func (m *DockerManager) findContainer(ctx context.Context, workerID string) (string, error) {
	containers, err := m.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return "", err
	}
	for _, c := range containers {
		if c.Labels[labelWorkerID] == workerID {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("nenhum container encontrado para o worker %s", workerID)
}
