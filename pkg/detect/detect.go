// Package detect guesses the language and framework of an editor buffer so
// callers can hand ctxbuild a best-effort category.
package detect

import (
	"path/filepath"
	"strings"
)

var extensions = map[string]string{
	".js":     "JavaScript",
	".jsx":    "JavaScript",
	".mjs":    "JavaScript",
	".cjs":    "JavaScript",
	".ts":     "TypeScript",
	".tsx":    "TypeScript",
	".py":     "Python",
	".go":     "Go",
	".rs":     "Rust",
	".java":   "Java",
	".kt":     "Kotlin",
	".rb":     "Ruby",
	".php":    "PHP",
	".cs":     "CSharp",
	".c":      "C",
	".h":      "C",
	".cpp":    "C++",
	".cc":     "C++",
	".hpp":    "C++",
	".swift":  "Swift",
	".html":   "HTML",
	".css":    "CSS",
	".scss":   "CSS",
	".sql":    "SQL",
	".sh":     "Shell",
	".vue":    "JavaScript",
	".svelte": "JavaScript",
}

// signal is a content marker that hints at a language when no file name is
// available.
type signal struct {
	marker   string
	language string
}

var languageSignals = []signal{
	{"package main", "Go"},
	{"func ", "Go"},
	{"def ", "Python"},
	{"import numpy", "Python"},
	{"fn ", "Rust"},
	{"public class ", "Java"},
	{"interface ", "TypeScript"},
	{": string", "TypeScript"},
	{"function ", "JavaScript"},
	{"const ", "JavaScript"},
	{"=> ", "JavaScript"},
}

var frameworkSignals = map[string][]signal{
	"JavaScript": {
		{"from 'react'", "React"}, {"from \"react\"", "React"}, {"useState(", "React"},
		{"from 'vue'", "Vue"}, {"<template>", "Vue"},
		{"express()", "Express"}, {"require('express')", "Express"},
		{"next/", "Next.js"},
		{"svelte", "Svelte"},
	},
	"TypeScript": {
		{"from 'react'", "React"}, {"from \"react\"", "React"},
		{"@angular/", "Angular"},
		{"next/", "Next.js"},
		{"@nestjs/", "NestJS"},
	},
	"Python": {
		{"django", "Django"},
		{"from flask", "Flask"}, {"import flask", "Flask"},
		{"fastapi", "FastAPI"},
		{"import torch", "PyTorch"},
	},
	"Go": {
		{"github.com/gin-gonic/gin", "Gin"},
		{"github.com/go-chi/chi", "Chi"},
		{"github.com/labstack/echo", "Echo"},
	},
	"Ruby": {
		{"Rails", "Rails"},
	},
	"Java": {
		{"org.springframework", "Spring"},
	},
}

// Language returns the language implied by fileName, falling back to
// content markers. It returns "" when nothing matches.
func Language(fileName, content string) string {
	if fileName != "" {
		ext := strings.ToLower(filepath.Ext(fileName))
		if lang, ok := extensions[ext]; ok {
			return lang
		}
	}
	for _, s := range languageSignals {
		if strings.Contains(content, s.marker) {
			return s.language
		}
	}
	return ""
}

// Framework returns the framework used by content for the given language,
// or "" when none is recognised.
func Framework(language, content string) string {
	for _, s := range frameworkSignals[language] {
		if strings.Contains(content, s.marker) {
			return s.language
		}
	}
	return ""
}
