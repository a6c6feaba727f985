//go:build ignore

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func main() {
	// 输出目录与版本号
	outputDir := "bin"
	version := os.Getenv("ROBOT_VERSION")
	if version == "" {
		version = "dev"
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Printf("Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	// 控制器与离线仿真器
	targets := []struct {
		name    string
		pkg     string
		ldflags []string
	}{
		{"robot", "./cmd/robot", []string{"-X", "robot/cmd/robot/app.version=" + version}},
		{"simulator", "./cmd/simulator", nil},
	}

	for _, t := range targets {
		outputPath := filepath.Join(outputDir, t.name)
		fmt.Printf("Building %s %s -> %s\n", t.name, version, outputPath)

		args := []string{"build", "-o", outputPath}
		if len(t.ldflags) > 0 {
			args = append(args, "-ldflags", strings.Join(t.ldflags, " "))
		}
		cmd := exec.Command("go", append(args, t.pkg)...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			fmt.Printf("Error building %s: %v\n", t.name, err)
			os.Exit(1)
		}
	}

	fmt.Println("All builds completed successfully!")
}
