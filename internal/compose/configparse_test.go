package compose

import "testing"

func TestParseComposeConfigExtractsProjectAndServices(t *testing.T) {
	yamlText := []byte(`
name: myapp
services:
  web:
    image: nginx:1.25
    container_name: myapp-web-1
  db:
    image: postgres:16
`)
	parsed, err := ParseComposeConfig(yamlText)
	if err != nil {
		t.Fatalf("ParseComposeConfig: %v", err)
	}
	if parsed.ProjectName != "myapp" {
		t.Fatalf("ProjectName = %q, want %q", parsed.ProjectName, "myapp")
	}
	if len(parsed.Services) != 2 {
		t.Fatalf("got %d services, want 2", len(parsed.Services))
	}
	if parsed.Services["web"].Image != "nginx:1.25" {
		t.Fatalf("web image = %q", parsed.Services["web"].Image)
	}
	if parsed.Services["web"].ContainerName != "myapp-web-1" {
		t.Fatalf("web container name = %q", parsed.Services["web"].ContainerName)
	}
	if parsed.Services["db"].ContainerName != "myapp-db-1" {
		t.Fatalf("db container name derived = %q, want %q", parsed.Services["db"].ContainerName, "myapp-db-1")
	}
}

func TestParseComposeConfigRejectsInvalidYAML(t *testing.T) {
	if _, err := ParseComposeConfig([]byte("not: valid: yaml: [")); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func TestContainersEnumeratesReplicasAndNamedServices(t *testing.T) {
	yamlText := []byte(`
name: stack
services:
  web:
    image: nginx:1
    deploy:
      replicas: 2
  db:
    image: postgres:16
    container_name: mydb
`)
	parsed, err := ParseComposeConfig(yamlText)
	if err != nil {
		t.Fatalf("ParseComposeConfig: %v", err)
	}

	containers := parsed.Containers()
	wantNames := []string{"mydb", "stack-web-1", "stack-web-2"}
	wantImages := []string{"postgres:16", "nginx:1", "nginx:1"}
	if len(containers) != len(wantNames) {
		t.Fatalf("got %d containers, want %d: %+v", len(containers), len(wantNames), containers)
	}
	for i, c := range containers {
		if c.Name != wantNames[i] || c.Image != wantImages[i] {
			t.Fatalf("container %d = %+v, want name %q image %q", i, c, wantNames[i], wantImages[i])
		}
	}
}
