package ecs

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"workbench/pkg/store/mysql/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

const (
	taskFamily        = "userspace"
	projectVolume     = "project"
	scriptVolume      = "script"
	startupScriptName = "start.sh"
)

// buildTaskDefinition translates a server plus its size tier into an ECS
// task definition. Memory reservation is half the hard limit (soft/hard
// split); host ports are auto-assigned; placement constraints are empty by
// default and left as the extension point for placement policy.
func (s *Spawner) buildTaskDefinition(server *model.Server) (*ecs.RegisterTaskDefinitionInput, error) {
	if server.ServerSize == nil {
		return nil, fmt.Errorf("server %s has no size tier loaded", server.ID)
	}

	volumes, mountPoints := s.volumesAndMountPoints(server)

	container := types.ContainerDefinition{
		Name:              aws.String(server.ID),
		Image:             aws.String(server.Image),
		Cpu:               int32(server.ServerSize.CPU),
		Memory:            aws.Int32(int32(server.ServerSize.Memory)),
		MemoryReservation: aws.Int32(int32(server.ServerSize.Memory / 2)),
		PortMappings:      s.portMappings(),
		Essential:         aws.Bool(true),
		Command:           containerCommand(server),
		Environment:       containerEnv(server),
		MountPoints:       mountPoints,
		DockerLabels:      s.routingLabels(server),
		LogConfiguration: &types.LogConfiguration{
			LogDriver: types.LogDriverAwslogs,
			Options: map[string]string{
				"awslogs-group":  s.cfg.ECS.LogGroup,
				"awslogs-region": s.cfg.ECS.Region,
			},
		},
	}

	if devices, err := containerDevices(server); err != nil {
		return nil, err
	} else if len(devices) > 0 {
		container.LinuxParameters = &types.LinuxParameters{Devices: devices}
	}

	return &ecs.RegisterTaskDefinitionInput{
		Family:               aws.String(taskFamily),
		ContainerDefinitions: []types.ContainerDefinition{container},
		Volumes:              volumes,
		PlacementConstraints: s.placementConstraints(),
	}, nil
}

// placementConstraints is empty by default; adapter variants may pin tasks
// to instance groups here.
func (s *Spawner) placementConstraints() []types.TaskDefinitionPlacementConstraint {
	return nil
}

// exposedPorts lists the configured container ports in stable order
func (s *Spawner) exposedPorts() []string {
	ports := make([]string, 0, len(s.cfg.PortEndpoints))
	for port := range s.cfg.PortEndpoints {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	return ports
}

// portMappings maps each exposed container port with an auto-assigned host port
func (s *Spawner) portMappings() []types.PortMapping {
	var mappings []types.PortMapping
	for _, port := range s.exposedPorts() {
		containerPort, err := strconv.Atoi(port)
		if err != nil {
			continue
		}
		mappings = append(mappings, types.PortMapping{
			HostPort:      aws.Int32(0),
			ContainerPort: aws.Int32(int32(containerPort)),
		})
	}
	return mappings
}

// routingLabels builds reverse-proxy path-prefix rules keyed by exposed
// port, so the proxy routes /{version}/{owner}/projects/{project}/servers/
// {server}/endpoint/{name} to the right container port.
func (s *Spawner) routingLabels(server *model.Server) map[string]string {
	labels := map[string]string{"traefik.enable": "true"}
	serverURI := fmt.Sprintf("/%s/%s/projects/%s/servers/%s/endpoint/",
		s.cfg.APIVersion, server.OwnerID, server.ProjectID, server.ID)
	for _, port := range s.exposedPorts() {
		endpoint := s.cfg.PortEndpoints[port]
		if endpoint == "" {
			continue
		}
		labels["traefik.port"] = port
		labels["traefik.frontend.rule"] = "PathPrefix:" + serverURI + endpoint
	}
	return labels
}

// volumesAndMountPoints mounts the project resource root and, when the
// server declares a startup script, the script itself read-only at a fixed
// location inside the resource dir.
func (s *Spawner) volumesAndMountPoints(server *model.Server) ([]types.Volume, []types.MountPoint) {
	volumes := []types.Volume{{
		Name: aws.String(projectVolume),
		Host: &types.HostVolumeProperties{SourcePath: aws.String(server.VolumePath)},
	}}
	mountPoints := []types.MountPoint{{
		SourceVolume:  aws.String(projectVolume),
		ContainerPath: aws.String(s.cfg.ResourceDir),
	}}

	if script := server.Config.GetString(model.ConfigStartupScript); script != "" {
		volumes = append(volumes, types.Volume{
			Name: aws.String(scriptVolume),
			Host: &types.HostVolumeProperties{SourcePath: aws.String(path.Join(server.VolumePath, script))},
		})
		mountPoints = append(mountPoints, types.MountPoint{
			SourceVolume:  aws.String(scriptVolume),
			ContainerPath: aws.String(path.Join(s.cfg.ResourceDir, startupScriptName)),
			ReadOnly:      aws.Bool(true),
		})
	}
	return volumes, mountPoints
}

// containerEnv flattens the server's env map into provider key/value pairs
// in stable order
func containerEnv(server *model.Server) []types.KeyValuePair {
	raw, ok := server.Config["env"].(map[string]interface{})
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]types.KeyValuePair, 0, len(keys))
	for _, k := range keys {
		v, _ := raw[k].(string)
		env = append(env, types.KeyValuePair{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}
	return env
}

// containerCommand returns the optional container command override
func containerCommand(server *model.Server) []string {
	raw, ok := server.Config["command"].([]interface{})
	if !ok {
		return nil
	}
	cmd := make([]string, 0, len(raw))
	for _, part := range raw {
		if s, ok := part.(string); ok {
			cmd = append(cmd, s)
		}
	}
	return cmd
}

// containerDevices parses colon-delimited host:container[:permissions]
// device strings into provider mounts
func containerDevices(server *model.Server) ([]types.Device, error) {
	raw, ok := server.Config["devices"].([]interface{})
	if !ok {
		return nil, nil
	}
	devices := make([]types.Device, 0, len(raw))
	for _, entry := range raw {
		dev, ok := entry.(string)
		if !ok {
			continue
		}
		parts := strings.Split(dev, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid device mount %q, want host:container[:permissions]", dev)
		}
		devices = append(devices, types.Device{
			HostPath:      aws.String(parts[0]),
			ContainerPath: aws.String(parts[1]),
		})
	}
	return devices, nil
}
