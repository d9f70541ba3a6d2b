package compose

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// composeConfigDoc mirrors just the parts of `docker compose config`'s YAML
// output this driver needs: the project name and each service's resolved
// image.
type composeConfigDoc struct {
	Name     string `yaml:"name"`
	Services map[string]struct {
		Image         string `yaml:"image"`
		ContainerName string `yaml:"container_name"`
		Deploy        struct {
			Replicas *int `yaml:"replicas"`
		} `yaml:"deploy"`
	} `yaml:"services"`
}

// ServiceInfo is the canonical per-service info extracted from `docker
// compose config` output: its resolved image, derived container name, and
// replica count. An explicit container_name pins the service to a single
// replica.
type ServiceInfo struct {
	Image         string
	ContainerName string
	Replicas      int
}

// ParsedConfig is the canonical result of parsing `docker compose config`
// output: the authoritative project name and a service name -> info map.
type ParsedConfig struct {
	ProjectName string
	Services    map[string]ServiceInfo
}

// ParseComposeConfig parses the YAML produced by `docker compose ... config`
// into the canonical service->image map plus the authoritative project
// name and per-service container name derivation.
func ParseComposeConfig(yamlText []byte) (ParsedConfig, error) {
	var doc composeConfigDoc
	if err := yaml.Unmarshal(yamlText, &doc); err != nil {
		return ParsedConfig{}, fmt.Errorf("compose: parsing config output: %w", err)
	}

	out := ParsedConfig{ProjectName: doc.Name, Services: make(map[string]ServiceInfo, len(doc.Services))}
	for name, svc := range doc.Services {
		replicas := 1
		if svc.Deploy.Replicas != nil && *svc.Deploy.Replicas > 0 {
			replicas = *svc.Deploy.Replicas
		}
		containerName := svc.ContainerName
		if containerName == "" {
			containerName = fmt.Sprintf("%s-%s-1", doc.Name, name)
		} else {
			replicas = 1
		}
		out.Services[name] = ServiceInfo{Image: svc.Image, ContainerName: containerName, Replicas: replicas}
	}
	return out, nil
}

// ContainerInstance is one expected container of a parsed project.
type ContainerInstance struct {
	Service string
	Name    string
	Image   string
}

// Containers enumerates every container the project will create, in sorted
// service order: an explicitly named service yields its container_name,
// everything else yields <project>-<service>-<n> per replica.
func (p ParsedConfig) Containers() []ContainerInstance {
	names := make([]string, 0, len(p.Services))
	for name := range p.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []ContainerInstance
	for _, name := range names {
		svc := p.Services[name]
		if svc.Replicas <= 1 {
			out = append(out, ContainerInstance{Service: name, Name: svc.ContainerName, Image: svc.Image})
			continue
		}
		for i := 1; i <= svc.Replicas; i++ {
			out = append(out, ContainerInstance{
				Service: name,
				Name:    fmt.Sprintf("%s-%s-%d", p.ProjectName, name, i),
				Image:   svc.Image,
			})
		}
	}
	return out
}
