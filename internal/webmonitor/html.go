package webmonitor

import "html/template"

var pageTemplates = template.Must(template.New("index").Parse(indexHTML))

func init() {
	template.Must(pageTemplates.New("mapa").Parse(mapaHTML))
}

const pageStyle = `
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #333; }
        .free { background: #1b5e20; }
        .occupied { background: #0d47a1; }
        nav a { color: #9cf; margin-right: 12px; }
    </style>`

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">` + pageStyle + `
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>{{.Title}}</h1>
            <span class="badge" id="summary">Waiting for data...</span>
        </div>
        <nav><a href="/">Live feed</a><a href="/mapa">Map</a></nav>
        <img id="stream" src="/video_feed" alt="Live parking feed" style="width:100%;height:auto;">
        <table id="spaces">
            <thead><tr><th>Space</th><th>State</th><th>Pixels</th></tr></thead>
            <tbody></tbody>
        </table>
    </div>
    <script>
    async function refresh() {
        try {
            const res = await fetch('/estado_espacios');
            const spaces = await res.json();
            const body = document.querySelector('#spaces tbody');
            body.innerHTML = '';
            let busy = 0;
            for (const s of spaces) {
                if (s.ocupado) busy++;
                const row = document.createElement('tr');
                row.className = s.ocupado ? 'occupied' : 'free';
                row.innerHTML = '<td>' + (s.id + 1) + '</td><td>' + (s.ocupado ? 'occupied' : 'free') + '</td><td>' + s.count + '</td>';
                body.appendChild(row);
            }
            document.getElementById('summary').textContent = (spaces.length - busy) + ' / ' + spaces.length + ' free';
        } catch (e) {
            document.getElementById('summary').textContent = 'Disconnected';
        }
    }
    refresh();
    setInterval(refresh, 1000);
    </script>
</body>
</html>
`

const mapaHTML = `<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}} - Map</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">` + pageStyle + `
    <style>
        #map { position: relative; background: #222; border: 1px solid #444; }
        .slot { position: absolute; display: flex; align-items: center; justify-content: center;
                border: 2px solid #eee; font-weight: bold; box-sizing: border-box; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>{{.Title}}</h1>
            <span class="badge" id="summary">Waiting for data...</span>
        </div>
        <nav><a href="/">Live feed</a><a href="/mapa">Map</a></nav>
        <div id="map">
            {{- range .Spaces}}
            <div class="slot free" id="slot-{{.ID}}"
                 style="left:{{.Rect.Min.X}}px;top:{{.Rect.Min.Y}}px;width:{{.Rect.Dx}}px;height:{{.Rect.Dy}}px;">{{.ID}}</div>
            {{- end}}
        </div>
    </div>
    <script>
    const map = document.getElementById('map');
    let maxX = 0, maxY = 0;
    for (const el of map.children) {
        maxX = Math.max(maxX, el.offsetLeft + el.offsetWidth);
        maxY = Math.max(maxY, el.offsetTop + el.offsetHeight);
    }
    map.style.width = (maxX + 10) + 'px';
    map.style.height = (maxY + 10) + 'px';
    for (const el of map.children) {
        el.textContent = String(Number(el.textContent) + 1);
    }

    const events = new EventSource('/estado_espacios/stream');
    events.onmessage = (msg) => {
        const spaces = JSON.parse(msg.data);
        let busy = 0;
        for (const s of spaces) {
            const el = document.getElementById('slot-' + s.id);
            if (!el) continue;
            if (s.ocupado) busy++;
            el.className = 'slot ' + (s.ocupado ? 'occupied' : 'free');
            el.title = s.count + ' px';
        }
        document.getElementById('summary').textContent = (spaces.length - busy) + ' / ' + spaces.length + ' free';
    };
    </script>
</body>
</html>
`
