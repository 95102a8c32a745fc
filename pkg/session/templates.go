package session

import (
	"bytes"
	"text/template"
)

// scaffoldFiles are served verbatim when a session's file map does not
// supply them: the package manifest, the dev-server config, the
// type-checker config, the CSS toolchain configs, and the non-templated
// source entrypoints. Client-supplied files always win.
var scaffoldFiles = map[string]string{
	"package.json": `{
  "name": "hutch-preview",
  "private": true,
  "version": "0.0.0",
  "type": "module",
  "scripts": {
    "dev": "vite --host 0.0.0.0 --port 4173"
  },
  "dependencies": {
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@vitejs/plugin-react": "^4.3.4",
    "autoprefixer": "^10.4.20",
    "postcss": "^8.4.49",
    "tailwindcss": "^3.4.17",
    "typescript": "^5.6.3",
    "vite": "^5.4.11"
  }
}
`,

	"vite.config.ts": `import { defineConfig } from 'vite'
import react from '@vitejs/plugin-react'

// Polling keeps the watcher reliable on bind-mounted work directories,
// where inotify events can be lost across the mount boundary.
export default defineConfig({
  plugins: [react()],
  server: {
    host: '0.0.0.0',
    port: 4173,
    strictPort: true,
    watch: {
      usePolling: true,
      interval: 300,
    },
  },
})
`,

	"tsconfig.json": `{
  "compilerOptions": {
    "target": "ES2020",
    "lib": ["ES2020", "DOM", "DOM.Iterable"],
    "module": "ESNext",
    "moduleResolution": "bundler",
    "jsx": "react-jsx",
    "strict": true,
    "skipLibCheck": true,
    "noEmit": true,
    "isolatedModules": true
  },
  "include": ["src"]
}
`,

	"postcss.config.js": `export default {
  plugins: {
    tailwindcss: {},
    autoprefixer: {},
  },
}
`,

	"tailwind.config.js": `export default {
  content: ['./index.html', './src/**/*.{ts,tsx,js,jsx}'],
  theme: {
    extend: {},
  },
  plugins: [],
}
`,

	"src/main.tsx": `import React from 'react'
import ReactDOM from 'react-dom/client'
import App from './App'
import './index.css'

ReactDOM.createRoot(document.getElementById('root') as HTMLElement).render(
  <React.StrictMode>
    <App />
  </React.StrictMode>,
)
`,

	"src/index.css": `@tailwind base;
@tailwind components;
@tailwind utilities;
`,
}

// scaffoldTemplates additionally interpolate the project id.
var scaffoldTemplates = map[string]*template.Template{
	"index.html": mustTemplate("index.html", `<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>{{.ProjectID}}</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.tsx"></script>
  </body>
</html>
`),

	"src/App.tsx": mustTemplate("App.tsx", `export default function App() {
  return (
    <div className="flex min-h-screen items-center justify-center">
      <h1 className="text-2xl font-semibold">{{.ProjectID}}</h1>
    </div>
  )
}
`),
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

// Scaffold renders the built-in file set for a project.
func Scaffold(projectID string) map[string]string {
	out := make(map[string]string, len(scaffoldFiles)+len(scaffoldTemplates))
	for path, content := range scaffoldFiles {
		out[path] = content
	}

	data := struct{ ProjectID string }{ProjectID: projectID}
	for path, tmpl := range scaffoldTemplates {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			continue
		}
		out[path] = buf.String()
	}
	return out
}

// WithScaffold merges the scaffold beneath the client's files: paths
// the client supplied keep the client's content, everything else is
// filled from the built-in set.
func WithScaffold(projectID string, files map[string]string) map[string]string {
	out := make(map[string]string, len(files)+len(scaffoldFiles)+len(scaffoldTemplates))
	for path, content := range files {
		out[path] = content
	}
	for path, content := range Scaffold(projectID) {
		if _, ok := out[path]; !ok {
			out[path] = content
		}
	}
	return out
}
