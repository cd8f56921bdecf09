package main

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestNanokernel(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Nanokernel Suite")
}
