package util

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

func Exec(command string, args string) (stdout, stderr string, err error) {
	return ExecContext(context.Background(), command, args)
}

// ExecContext runs a command, killing it when the context expires.
func ExecContext(ctx context.Context, command string, args string) (stdout, stderr string, err error) {
	logrus.Tracef("EXEC: %v %v", command, args)

	cmd := exec.CommandContext(ctx, command, strings.Split(args, " ")...)
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb

	err = cmd.Run()
	stdout = outb.String()
	stderr = errb.String()

	return
}
